package vfs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
)

// ModeString renders t and the 9 permission bits the way ls -l does.
func ModeString(t NodeType, mode uint32) string {
	var b [10]byte
	switch t {
	case TypeDir:
		b[0] = 'd'
	case TypeSymlink:
		b[0] = 'l'
	default:
		b[0] = '-'
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}
	return string(b[:])
}

// FormatOctal renders the permission bits as three octal digits.
func FormatOctal(mode uint32) string {
	return fmt.Sprintf("%03o", mode&0o777)
}

// ParseMode applies a chmod mode expression to cur. Both octal ("640") and
// symbolic ("u+x,go-w", "a=r", "+x") forms are accepted.
func ParseMode(expr string, cur uint32, isDir bool) (uint32, error) {
	if expr == "" {
		return 0, ErrInvalid
	}
	if isOctal(expr) {
		v, err := strconv.ParseUint(expr, 8, 32)
		if err != nil {
			return 0, ErrInvalid
		}
		return uint32(v) & 0o777, nil
	}

	mode := cur & 0o777
	for _, clause := range strings.Split(expr, ",") {
		i := 0
		var who uint32
		for i < len(clause) && strings.IndexByte("ugoa", clause[i]) >= 0 {
			switch clause[i] {
			case 'u':
				who |= 0o700
			case 'g':
				who |= 0o070
			case 'o':
				who |= 0o007
			case 'a':
				who |= 0o777
			}
			i++
		}
		if who == 0 {
			who = 0o777
		}
		if i >= len(clause) {
			return 0, ErrInvalid
		}
		for i < len(clause) {
			op := clause[i]
			if op != '+' && op != '-' && op != '=' {
				return 0, ErrInvalid
			}
			i++
			var bits uint32
			for i < len(clause) && strings.IndexByte("rwxX", clause[i]) >= 0 {
				switch clause[i] {
				case 'r':
					bits |= 0o444
				case 'w':
					bits |= 0o222
				case 'x':
					bits |= 0o111
				case 'X':
					if isDir || mode&0o111 != 0 {
						bits |= 0o111
					}
				}
				i++
			}
			bits &= who
			switch op {
			case '+':
				mode |= bits
			case '-':
				mode &^= bits
			case '=':
				mode = (mode &^ who) | bits
			}
		}
	}
	return mode, nil
}

func isOctal(s string) bool {
	if len(s) > 4 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '7' {
			return false
		}
	}
	return true
}

// HumanSize renders n the way ls -h and du -h do ("512", "4.0K", "1.3M").
func HumanSize(n int64) string {
	b := datasize.ByteSize(n)
	switch {
	case b >= datasize.TB:
		return humanUnit(b.TBytes(), "T")
	case b >= datasize.GB:
		return humanUnit(b.GBytes(), "G")
	case b >= datasize.MB:
		return humanUnit(b.MBytes(), "M")
	case b >= datasize.KB:
		return humanUnit(b.KBytes(), "K")
	}
	return strconv.FormatInt(n, 10)
}

func humanUnit(v float64, unit string) string {
	if v < 10 {
		return fmt.Sprintf("%.1f%s", math.Ceil(v*10)/10, unit)
	}
	return fmt.Sprintf("%.0f%s", math.Ceil(v), unit)
}
