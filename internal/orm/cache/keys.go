package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// StatementKey derives a stable key from a rendered statement and its
// arguments. Arguments are msgpack-encoded so 5 and "5" hash apart.
func StatementKey(kind, sql string, args []any) (string, error) {
	h := xxhash.New()
	_, _ = h.WriteString(sql)
	_, _ = h.Write([]byte{0})

	enc, err := msgpack.Marshal(args)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(enc)
	return kind + ":" + strconv.FormatUint(h.Sum64(), 16), nil
}
