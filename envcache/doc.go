// Package envcache keeps a host-local cache of grading environment archives.
//
// Every environment version is downloaded at most once per host in the common
// case. A small JSON meta file per environment records which archive belongs
// to which checksum; concurrent workers race to publish it through an
// exclusive-create lock file and the losers simply keep their own copy.
//
// Usage:
//
//	cache, err := envcache.New(root, masterClient, logger)
//	rel, err := cache.Resolve(ctx, env)
//	err = envcache.Unpack(cache.Path(rel), workspace)
package envcache
