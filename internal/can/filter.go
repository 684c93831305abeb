package can

// MaskType describes how masks are attached to the filters of a group.
type MaskType int

const (
	// MaskNone means the group only supports exact identifier matches.
	MaskNone MaskType = iota
	// MaskIndividual means each filter of the group has its own mask.
	MaskIndividual
	// MaskShared means all filters of a group share one mask.
	MaskShared
)

func (m MaskType) String() string {
	switch m {
	case MaskIndividual:
		return "individual"
	case MaskShared:
		return "shared"
	default:
		return "none"
	}
}

// RTRFilterBehavior describes how a filter bank treats remote frames.
type RTRFilterBehavior int

const (
	// RTRConfigurable: the RTR bit is part of filter and mask; AllowRemote and
	// RemoteOnly both apply.
	RTRConfigurable RTRFilterBehavior = iota
	// RTRConfigurableEitherDataOrRemote: the RTR bit is part of the filter only;
	// RemoteOnly applies, AllowRemote has no effect.
	RTRConfigurableEitherDataOrRemote
	// RTRRemoteAlwaysAllowed: data and remote frames with a matching id pass.
	RTRRemoteAlwaysAllowed
	// RTROnlyData: only data frames pass.
	RTROnlyData
	// RTROnlyRemote: only remote frames pass.
	RTROnlyRemote
)

// FilterGroup describes a bank of consecutive filters with the same capability.
type FilterGroup struct {
	NumFilters int
	Extended   bool // 29-bit identifiers supported in addition to 11-bit
	Mask       MaskType
	RTR        RTRFilterBehavior
}

// Filter is an acceptance filter. A frame matches when
//
//	rxID & Mask == ID & Mask
//
// A zero Mask accepts every identifier.
type Filter struct {
	ID          uint32
	Mask        uint32
	Extended    bool
	AllowRemote bool
	RemoteOnly  bool
}

// AcceptAll returns a filter that accepts all data frames.
func AcceptAll() Filter { return Filter{Extended: true} }

// NewExtendedFilter accepts exactly the given 29-bit identifier.
func NewExtendedFilter(id uint32) Filter {
	return Filter{ID: id & CAN_EFF_MASK, Mask: CAN_EFF_MASK, Extended: true}
}

// NewStandardFilter accepts exactly the given 11-bit identifier.
func NewStandardFilter(id uint32) Filter {
	return Filter{ID: id & CAN_SFF_MASK, Mask: CAN_SFF_MASK}
}

// WithMask returns a copy of the filter using mask.
func (f Filter) WithMask(mask uint32) Filter {
	f.Mask = mask
	return f
}

// Matches reports whether fr passes the filter.
func (f Filter) Matches(fr Frame) bool {
	if f.Mask != 0 && fr.IsExtended() != f.Extended {
		return false
	}
	if fr.IsRemote() {
		if !f.AllowRemote && !f.RemoteOnly {
			return false
		}
	} else if f.RemoteOnly {
		return false
	}
	return fr.ID()&f.Mask == f.ID&f.Mask
}

// MatchAny reports whether fr passes any of filters. An empty list accepts all.
func MatchAny(filters []Filter, fr Frame) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(fr) {
			return true
		}
	}
	return false
}
