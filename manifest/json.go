package manifest

import jsoniter "github.com/json-iterator/go"

// jsonc is the jsoniter codec used for every small, hot-path manifest object
// (HEAD, lease, checkpoint metadata, GC plan) — HEAD alone is read on every
// snapshot load, so the allocation savings over encoding/json matter
// here in a way they don't for the bulk checkpoint payload (that one goes
// through msgp instead, see checkpoint_codec.go).
var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary
