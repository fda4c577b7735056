/*
Package torrent keeps track of the local data of BitTorrent torrents.
A Client owns the torrents and a single verification goroutine that hashes
their pieces against the metainfo. What was verified survives restarts in a
resume database, and files changing on disk invalidate their checked pieces.

	cl, _ := torrent.NewClient(nil)
	defer cl.Close()
	t, _ := cl.AddFromFile("example.torrent")
	cl.WaitVerified(context.Background())
	fmt.Println(t.Completeness())
*/
package torrent
