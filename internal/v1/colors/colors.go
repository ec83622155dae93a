// Package colors assigns a deterministic presence color to each user id
// so a user keeps the same color across connections and across servers.
package colors

import "hash/fnv"

// Palette is the set of presence colors handed out to users. The index
// is derived from a hash of the user id, so the assignment is stable.
var Palette = []string{
	"#E57373",
	"#F06292",
	"#BA68C8",
	"#9575CD",
	"#7986CB",
	"#64B5F6",
	"#4FC3F7",
	"#4DD0E1",
	"#4DB6AC",
	"#81C784",
	"#AED581",
	"#DCE775",
	"#FFD54F",
	"#FFB74D",
	"#FF8A65",
	"#A1887F",
}

// ForUser returns the palette color for the given user id:
// palette[abs(hash(userId)) mod len(palette)].
func ForUser(userID string) string {
	h := fnv.New32a()
	// fnv.Write never returns an error.
	_, _ = h.Write([]byte(userID))
	return Palette[int(h.Sum32())%len(Palette)]
}
