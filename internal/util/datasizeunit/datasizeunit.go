// Package datasizeunit parses human-readable data sizes such as "10 MiB" or "800 Kib".
package datasizeunit

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Bytes is a data size (or a per-second data rate) in bytes.
// A negative value means "unset".
type Bytes struct {
	bytes int64
	set   bool
}

func FromInt64(i int64) Bytes { return Bytes{bytes: i, set: true} }

// ToInt64 returns the size in bytes, or -1 if unset.
func (b Bytes) ToInt64() int64 {
	if !b.set {
		return -1
	}
	return b.bytes
}

func (b Bytes) IsSet() bool { return b.set && b.bytes >= 0 }

var sizeRegex = regexp.MustCompile(`^([-0-9\.]+)\s*(bit|(|K|Ki|M|Mi|G|Gi|T|Ti)([bB]?))$`)

var factorMap = map[string]float64{
	"": 1,

	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,

	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
}

// Parse accepts a plain byte count ("4096"), a byte unit ("10 MiB", "1.5GB")
// or a bit unit ("800 Kib", "23 bit"). Bit quantities are rounded down to whole bytes.
func Parse(s string) (Bytes, error) {
	s = strings.TrimSpace(s)

	genericErr := func(err error) error {
		var buf strings.Builder
		fmt.Fprintf(&buf, "cannot parse %q using regex %s", s, sizeRegex)
		if err != nil {
			fmt.Fprintf(&buf, ": %s", err)
		}
		return errors.New(buf.String())
	}

	match := sizeRegex.FindStringSubmatch(s)
	if match == nil {
		return Bytes{}, genericErr(nil)
	}

	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Bytes{}, genericErr(err)
	}

	if match[2] == "bit" {
		if math.Round(v) != v {
			return Bytes{}, genericErr(fmt.Errorf("unit bit must be an integer value"))
		}
		return FromInt64(int64(v / 8)), nil
	}

	factor, ok := factorMap[match[3]]
	if !ok {
		panic(match)
	}

	bits := false
	switch match[4] {
	case "b":
		bits = true
	case "B":
	case "":
		if match[3] != "" {
			return Bytes{}, genericErr(fmt.Errorf("unit prefix %q requires b or B", match[3]))
		}
	}

	total := v * factor
	if bits {
		total /= 8
	}
	if v < 0 {
		// any negative value is "no limit"
		return FromInt64(-1), nil
	}
	return FromInt64(int64(total)), nil
}

func (b *Bytes) UnmarshalYAML(u func(interface{}, bool) error) error {
	var s string
	if err := u(&s, false); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

var _ pflag.Value = (*Bytes)(nil)

func (b *Bytes) Set(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b *Bytes) Type() string { return "size" }

func (b *Bytes) String() string {
	if !b.IsSet() {
		return ""
	}
	return HumanBytes(b.bytes)
}

// HumanBytes renders n with a binary unit prefix, e.g. "1.5 MiB".
func HumanBytes(n int64) string {
	const unit = 1 << 10
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
