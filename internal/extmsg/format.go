package extmsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrTooFewArgs = errors.New("too few arguments for template")
	ErrBadFormat  = errors.New("bad format directive")
)

type directive struct {
	argnum    int // 1-based, 0 if not given
	left      bool
	plus      bool
	pad       byte
	width     int
	precision int // -1 if not given
	verb      byte
}

// Render substitutes params into a catalog template. Templates use the
// printf dialect of the catalog's authors: %s %d %u %c %x %X %o %b %f %F
// and %%, with optional N$ argument numbers, the flags - + 0 and 'c
// (custom pad character), a width and a precision. Numbers are read from
// string params by their leading digits, strings from numbers by their
// decimal form.
func Render(template string, params []Param) (string, error) {
	var sb strings.Builder
	next := 0

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}

		d, n, err := parseDirective(template[i+1:])
		if err != nil {
			return "", fmt.Errorf("%w at offset %d", err, i)
		}
		i += n

		if d.verb == '%' {
			sb.WriteByte('%')
			continue
		}

		idx := next
		if d.argnum > 0 {
			idx = d.argnum - 1
		} else {
			next++
		}
		if idx >= len(params) {
			return "", fmt.Errorf("%w: want argument %d, have %d", ErrTooFewArgs, idx+1, len(params))
		}

		s, err := formatParam(d, params[idx])
		if err != nil {
			return "", fmt.Errorf("%w at offset %d", err, i)
		}
		sb.WriteString(s)
	}

	return sb.String(), nil
}

// parseDirective reads what follows a '%' and returns how many bytes it
// took.
func parseDirective(s string) (directive, int, error) {
	d := directive{pad: ' ', precision: -1}
	i := 0

	digits := func() int {
		start := i
		for i < len(s) && '0' <= s[i] && s[i] <= '9' {
			i++
		}
		if start == i {
			return -1
		}
		n, _ := strconv.Atoi(s[start:i])
		return n
	}

	if n := digits(); n >= 0 {
		if i < len(s) && s[i] == '$' {
			if n == 0 {
				return d, 0, fmt.Errorf("%w: argument number must be greater than zero", ErrBadFormat)
			}
			d.argnum = n
			i++
		} else {
			// plain width (or a 0 flag followed by one)
			i = 0
		}
	}

flags:
	for i < len(s) {
		switch s[i] {
		case '-':
			d.left = true
		case '+':
			d.plus = true
		case '0':
			d.pad = '0'
		case ' ':
			d.pad = ' '
		case '\'':
			if i+1 >= len(s) {
				return d, 0, fmt.Errorf("%w: missing padding character", ErrBadFormat)
			}
			i++
			d.pad = s[i]
		default:
			break flags
		}
		i++
	}

	if n := digits(); n >= 0 {
		d.width = n
	}
	if i < len(s) && s[i] == '.' {
		i++
		d.precision = max(digits(), 0)
	}

	if i >= len(s) {
		return d, 0, fmt.Errorf("%w: missing verb", ErrBadFormat)
	}
	d.verb = s[i]
	i++

	return d, i, nil
}

func formatParam(d directive, p Param) (string, error) {
	var s string
	numeric := true

	switch d.verb {
	case 's':
		s = p.String()
		if d.precision >= 0 && d.precision < len(s) {
			s = s[:d.precision]
		}
		numeric = false
	case 'd':
		n := p.intValue()
		s = strconv.FormatInt(n, 10)
		if d.plus && n >= 0 {
			s = "+" + s
		}
	case 'u':
		s = strconv.FormatUint(uint64(p.intValue()), 10)
	case 'c':
		return string([]byte{byte(p.intValue())}), nil
	case 'x':
		s = strconv.FormatUint(uint64(p.intValue()), 16)
	case 'X':
		s = strings.ToUpper(strconv.FormatUint(uint64(p.intValue()), 16))
	case 'o':
		s = strconv.FormatUint(uint64(p.intValue()), 8)
	case 'b':
		s = strconv.FormatUint(uint64(p.intValue()), 2)
	case 'f', 'F':
		prec := d.precision
		if prec < 0 {
			prec = 6
		}
		f := p.floatValue()
		s = strconv.FormatFloat(f, 'f', prec, 64)
		if d.plus && f >= 0 {
			s = "+" + s
		}
	default:
		return "", fmt.Errorf("%w: unknown verb %q", ErrBadFormat, d.verb)
	}

	return pad(s, d, numeric), nil
}

func pad(s string, d directive, numeric bool) string {
	if len(s) >= d.width {
		return s
	}
	fill := strings.Repeat(string(d.pad), d.width-len(s))
	if d.left {
		return s + fill
	}
	// zero padding goes after the sign
	if numeric && d.pad == '0' && len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		return s[:1] + fill + s[1:]
	}
	return fill + s
}
