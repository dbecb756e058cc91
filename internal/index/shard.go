package index

import "path"

// ShardPath computes the crate index's conventional sharded file path
// for name, following the client ecosystem's own layout. name is the
// crate's literal published name, not its normalized canon_name: a
// real client requests the index file by the name it knows the crate
// by.
//
//	len 1: "1/{name}"
//	len 2: "2/{name}"
//	len 3: "3/{first byte}/{name}"
//	else:  "{first two}/{next two}/{name}"
func ShardPath(name string) string {
	switch n := len(name); {
	case n == 1:
		return path.Join("1", name)
	case n == 2:
		return path.Join("2", name)
	case n == 3:
		return path.Join("3", name[:1], name)
	default:
		return path.Join(name[:2], name[2:4], name)
	}
}
