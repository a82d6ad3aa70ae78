package pods

import (
	"fmt"

	"github.com/openfluke/gpuscan/scan"
	"github.com/openfluke/gpuscan/substrate"
)

// Work-group modes.
const (
	ModeFixed  = "fixed"
	ModeDevice = "device"
)

// WorkgroupPolicy picks a work-group size per substrate.
type WorkgroupPolicy struct {
	Mode string
	Size int
}

// Resolve returns a power-of-two work-group size. Fixed mode uses Size, or
// scan.DefaultWorkgroup when Size is zero. Device mode uses the largest power
// of two not above the device's preferred and maximum sizes.
func (p WorkgroupPolicy) Resolve(info substrate.DeviceInfo) (int, error) {
	switch p.Mode {
	case "", ModeFixed:
		if p.Size == 0 {
			return scan.DefaultWorkgroup, nil
		}
		return p.Size, nil
	case ModeDevice:
		limit := info.PreferredWorkgroup
		if info.MaxWorkgroup > 0 && info.MaxWorkgroup < limit {
			limit = info.MaxWorkgroup
		}
		wg := 1
		for wg*2 <= limit {
			wg *= 2
		}
		return wg, nil
	default:
		return 0, fmt.Errorf("unknown work-group mode %q", p.Mode)
	}
}

// resolve is Resolve against x's substrate. In device mode a report on x
// supplies the preferred size.
func (p WorkgroupPolicy) resolve(x *ExecContext) (int, error) {
	info := x.Sub.Info()
	if p.Mode == ModeDevice && x.Report != nil && x.Report.Recommended.Workgroup > 0 {
		info.PreferredWorkgroup = int(x.Report.Recommended.Workgroup)
	}
	return p.Resolve(info)
}
