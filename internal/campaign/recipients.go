package campaign

import (
	"strings"

	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

// Sources are the three places a campaign draws recipients from, in
// precedence order.
type Sources struct {
	Saved    []model.Recipient `json:"saved"`
	Manual   string            `json:"manual"`
	Imported []string          `json:"imported"`
}

// Resolve concatenates the sources, normalizes every phone and keeps the
// first occurrence of each. Entries without digits are dropped.
func Resolve(src Sources) []model.Recipient {
	all := make([]model.Recipient, 0, len(src.Saved)+len(src.Imported))

	for _, r := range src.Saved {
		all = append(all, model.Recipient{Phone: model.NormalizePhone(r.Phone), Name: strings.TrimSpace(r.Name)})
	}
	for _, line := range strings.Split(src.Manual, "\n") {
		all = append(all, model.Recipient{Phone: model.NormalizePhone(line)})
	}
	for _, s := range src.Imported {
		all = append(all, model.Recipient{Phone: model.NormalizePhone(s)})
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]model.Recipient, 0, len(all))
	for _, r := range all {
		if r.Phone == "" {
			continue
		}
		if _, ok := seen[r.Phone]; ok {
			continue
		}
		seen[r.Phone] = struct{}{}
		out = append(out, r)
	}
	return out
}

func chunk(rs []model.Recipient, size int) [][]model.Recipient {
	if size <= 0 {
		size = len(rs)
	}
	var out [][]model.Recipient
	for i := 0; i < len(rs); i += size {
		end := min(i+size, len(rs))
		out = append(out, rs[i:end])
	}
	return out
}
