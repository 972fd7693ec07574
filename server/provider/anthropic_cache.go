package provider

import "github.com/adrianmueller-eu/personal-assistant-sub000/config"

var ephemeral = &anthropicCacheControl{Type: "ephemeral"}

// assignCacheHints marks cache breakpoints on msgs, which must already be
// free of system messages. Candidates are the positions offset,
// offset+stride, offset+2*stride and so on. Once max marks are set, adding
// another first clears the earliest one, so the most recent breakpoints
// survive. The mark goes on the message's last content block. It returns
// the marked positions in ascending order.
func assignCacheHints(msgs []anthropicMessage, cfg config.CacheHintConfig) []int {
	if !cfg.Enabled || cfg.Max <= 0 || cfg.Stride <= 0 {
		return nil
	}

	var marked []int
	for i := cfg.Offset; i < len(msgs); i += cfg.Stride {
		if len(msgs[i].Content) == 0 {
			continue
		}
		if len(marked) == cfg.Max {
			setCacheMark(&msgs[marked[0]], nil)
			marked = marked[1:]
		}
		setCacheMark(&msgs[i], ephemeral)
		marked = append(marked, i)
	}
	return marked
}

func setCacheMark(m *anthropicMessage, cc *anthropicCacheControl) {
	m.Content[len(m.Content)-1].CacheControl = cc
}
