/*
Package engine ties the page-cache core together into something a
filesystem adapter can actually call. Everything else in this module
answers "what does the state look like" (pagecache), "how do I persist
and check it" (pagestats), "what does committing it cost" (multipart), or
"how do I run I/O concurrently" (workerpool); engine is the one place that
calls all four in the order a real open file needs:

	f, err := engine.Open(ctx, engine.Options{
		Key:         "path/to/object",
		CachePath:   "/var/cache/nimbusfs/ab/cd/path-to-object",
		StatsPath:   "/var/cache/nimbusfs/ab/cd/path-to-object.stats",
		Store:       s3Backend,
		Pool:        pool,
		Metrics:     collector,
		MinPartSize: 8 << 20,
		MaxPartSize: 512 << 20,
	}, headResult.Size)
	n, err := f.Read(ctx, buf, offset)
	n, err = f.Write(ctx, data, offset)
	err = f.Close(ctx)

One File exists per open cache file. It owns the file's PageList and its
stats-file handle; nothing else is allowed to touch either.
*/
package engine
