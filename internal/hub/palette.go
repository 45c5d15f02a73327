package hub

// palette is the fixed set of presence colors, assigned per connection to
// the lowest-index color unused in the room.
var palette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e", "#06b6d4",
	"#3b82f6", "#8b5cf6", "#ec4899", "#14b8a6", "#f43f5e",
}

// assignColor picks the first free palette color. When the room holds more
// connections than colors, colors repeat round-robin by occupancy; the
// occasional collision under high concurrency is accepted.
func assignColor(used map[string]bool, occupancy int) string {
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	return palette[occupancy%len(palette)]
}
