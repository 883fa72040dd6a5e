package payment

import (
	"fmt"
	"time"

	"github.com/egovpay/server/internal/utils/random"
)

// referenceSuffixLen is the number of random characters appended to a
// reference. 36^8 possibilities keeps concurrent generation collision-free
// in practice; the unique index on payments.reference is the backstop.
const referenceSuffixLen = 8

// NewReference generates a human-auditable payment reference:
// PAY-<UTC timestamp>-<random suffix>, e.g. PAY-20260901143015-K7Q2M9XA.
func NewReference(now time.Time) string {
	return fmt.Sprintf("PAY-%s-%s",
		now.UTC().Format("20060102150405"),
		random.UpperAlphaNum(referenceSuffixLen),
	)
}
