package selector

import (
	"strconv"
	"strings"
	"time"

	"mailq/backend/internal/domain"
)

const daySpecLayout = "2006-01-02"

// ParseDateSpec 解析日期表达式：
//
//	YYYY-MM-DD             当天
//	YYYY-MM-DD..YYYY-MM-DD 区间（包含两端）
//	+YYYY-MM-DD            该日期之后（包含）
//	-YYYY-MM-DD            该日期之前（包含）
//
// 日期按 loc 时区解析，loc 为 nil 时使用本地时区。返回的 nil 边界由筛选时补全。
func ParseDateSpec(spec string, loc *time.Location) (start, stop *time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	spec = strings.TrimSpace(spec)
	parse := func(value string) (*time.Time, error) {
		day, err := time.ParseInLocation(daySpecLayout, value, loc)
		if err != nil {
			return nil, domain.InvalidArgument("invalid date %q, expected YYYY-MM-DD", value)
		}
		return &day, nil
	}

	switch {
	case strings.Contains(spec, ".."):
		parts := strings.SplitN(spec, "..", 2)
		if start, err = parse(parts[0]); err != nil {
			return nil, nil, err
		}
		if stop, err = parse(parts[1]); err != nil {
			return nil, nil, err
		}
	case strings.HasPrefix(spec, "+"):
		if start, err = parse(spec[1:]); err != nil {
			return nil, nil, err
		}
	case strings.HasPrefix(spec, "-"):
		if stop, err = parse(spec[1:]); err != nil {
			return nil, nil, err
		}
	default:
		if start, err = parse(spec); err != nil {
			return nil, nil, err
		}
		end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
		stop = &end
	}
	return start, stop, nil
}

// ParseSizeSpec 解析大小表达式，最多两项：
//
//	n    精确大小，只能单独使用
//	+n   最小值
//	-n   最大值
//
// 0 在筛选中表示没有上限，因此精确大小和最大值都必须大于 0。
func ParseSizeSpec(specs ...string) (min, max int64, err error) {
	if len(specs) == 0 || len(specs) > 2 {
		return 0, 0, domain.InvalidArgument("expected one or two size values")
	}

	var hasMin, hasMax, hasExact bool
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if hasExact {
			return 0, 0, domain.InvalidArgument("exact size must be used alone")
		}

		var value int64
		switch {
		case strings.HasPrefix(spec, "-"):
			if hasMax {
				return 0, 0, domain.InvalidArgument("multiple max sizes specified")
			}
			if value, err = parseSize(spec[1:]); err != nil {
				return 0, 0, err
			}
			if value == 0 {
				return 0, 0, domain.InvalidArgument("maximum size must be greater than 0")
			}
			max, hasMax = value, true
		case strings.HasPrefix(spec, "+"):
			if hasMin {
				return 0, 0, domain.InvalidArgument("multiple min sizes specified")
			}
			if value, err = parseSize(spec[1:]); err != nil {
				return 0, 0, err
			}
			min, hasMin = value, true
		default:
			if hasMin || hasMax {
				return 0, 0, domain.InvalidArgument("exact size must be used alone")
			}
			if value, err = parseSize(spec); err != nil {
				return 0, 0, err
			}
			if value == 0 {
				return 0, 0, domain.InvalidArgument("exact size must be greater than 0")
			}
			min, max, hasExact = value, value, true
		}
	}

	if max != 0 && min > max {
		return 0, 0, domain.InvalidArgument("minimum size is greater than maximum size")
	}
	return min, max, nil
}

func parseSize(value string) (int64, error) {
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil || size < 0 {
		return 0, domain.InvalidArgument("invalid size %q", value)
	}
	return size, nil
}
