// SPDX-License-Identifier: MIT

package quota

import (
	"context"
	"fmt"

	"github.com/tubescribe/tubescribe/internal/store"
)

// Denial is a rejected reservation, carrying the numbers a client needs to
// render the limit state. Guests are told to authenticate for more.
type Denial struct {
	Resource     string `json:"resource"`
	Used         int64  `json:"used"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
	RequiresAuth bool   `json:"requires_auth"`
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s limit reached (%d/%d used)", d.Resource, d.Used, d.Limit)
}

// NewDenial builds the payload from the ledger's current counter. A counter
// read failure still denies; the usage fields then read zero.
func NewDenial(ctx context.Context, l Ledger, p Principal, resource string, limit int64) *Denial {
	used, _ := l.Used(ctx, p, resource)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Denial{
		Resource:     resource,
		Used:         used,
		Limit:        limit,
		Remaining:    remaining,
		RequiresAuth: p.Type == store.OwnerGuest,
	}
}
