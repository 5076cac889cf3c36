package actions

import (
	"sort"
	"strings"
)

// CID joins a folder and an item id into a composite id.
func CID(folder, id string) string {
	if folder == "" {
		return id
	}
	return folder + "." + id
}

// SplitCID reverses CID. The item id is the part after the last dot.
func SplitCID(cid string) (folder, id string) {
	i := strings.LastIndex(cid, ".")
	if i < 0 {
		return "", cid
	}
	return cid[:i], cid[i+1:]
}

// Fingerprint is the identity of a selection: its cids sorted and joined
// with commas.
func Fingerprint(cids []string) string {
	sorted := append([]string(nil), cids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
