package render

// Variant identifies one of the four animation outputs.
type Variant string

const (
	VariantAll   Variant = "all_layers"
	VariantLow   Variant = "low_only"
	VariantMid   Variant = "mid_only"
	VariantUpper Variant = "upper_only"
)

// Variants lists every output variant in a stable order.
func Variants() []Variant {
	return []Variant{VariantAll, VariantLow, VariantMid, VariantUpper}
}

// Filename is the well-known artifact name for this variant. These paths
// are stable: the web layer serves them directly and each refresh cycle
// atomically replaces them in place.
func (v Variant) Filename() string {
	return "cloud_" + string(v) + ".gif"
}

// Title is the human-readable label stamped onto frames.
func (v Variant) Title() string {
	switch v {
	case VariantAll:
		return "All cloud layers"
	case VariantLow:
		return "Low clouds"
	case VariantMid:
		return "Mid clouds"
	case VariantUpper:
		return "Upper clouds"
	default:
		return string(v)
	}
}
