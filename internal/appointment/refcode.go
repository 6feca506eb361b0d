package appointment

import (
	"time"

	"github.com/google/uuid"
)

// crockford base32 without I, L, O, U
const refAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// newReference builds a human-readable code such as APT-20260302-7KQ2MX.
func newReference(date time.Time, id uuid.UUID) string {
	buf := make([]byte, 0, 22)
	buf = append(buf, "APT-"...)
	buf = date.AppendFormat(buf, "20060102")
	buf = append(buf, '-')
	for i := 0; i < 6; i++ {
		buf = append(buf, refAlphabet[id[10+i]&31])
	}
	return string(buf)
}
