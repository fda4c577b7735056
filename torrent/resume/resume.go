//Package resume persists what we know about a torrent's local data so that
//a restart doesn't need a full verification pass.
package resume

import (
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/lkslts64/charo-verify/metainfo"
	"go.etcd.io/bbolt"
)

const bucket = "resume"

var ErrNotFound = errors.New("resume: no state for torrent")

//State is the resume state of one torrent.
type State struct {
	//block bitfield in wire format
	Blocks []byte `bencode:"blocks"`
	//checked-pieces bitfield in wire format
	Checked []byte `bencode:"checked"`
	//file mtimes at the time pieces were checked, 0 if the file was missing
	Mtimes []int64 `bencode:"mtimes"`
	//indices of files the user doesn't want
	Unwanted []int `bencode:"unwanted,omitempty"`
}

//Store keeps resume states in a bbolt database keyed by info hash.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("resume: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resume: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(hash metainfo.Hash, st State) error {
	b, err := bencode.Marshal(st)
	if err != nil {
		return fmt.Errorf("resume: encode: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(hash.Bytes(), b)
	})
}

func (s *Store) Load(hash metainfo.Hash) (st State, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket)).Get(hash.Bytes())
		if b == nil {
			return ErrNotFound
		}
		//b is only valid inside the transaction
		if err := bencode.Unmarshal(append([]byte(nil), b...), &st); err != nil {
			return fmt.Errorf("resume: decode %s: %w", hash.HexString(), err)
		}
		return nil
	})
	return
}

func (s *Store) Delete(hash metainfo.Hash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete(hash.Bytes())
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
