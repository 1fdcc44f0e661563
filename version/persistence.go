package version

import "github.com/acunu/castlefs/metastore"

// FileSink returns an OpenSink that hands Writeback a fresh
// metastore.Table generation under dir each time it is called.
func FileSink(dir, name string) OpenSink {
	return func() (Sink, error) {
		return metastore.OpenSink(dir, name)
	}
}

// FileSource returns an OpenSource that hands BootstrapLoad the latest
// metastore.Table generation under dir.
func FileSource(dir, name string) OpenSource {
	return func() (Source, error) {
		return metastore.OpenSource(dir, name)
	}
}
