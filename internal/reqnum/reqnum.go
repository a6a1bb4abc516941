// Package reqnum issues the per-device OFD request sequence number.
package reqnum

import (
	"context"
	"fmt"

	"fiscal/internal/domain"
	"fiscal/internal/storage"
)

// Max is the largest value the 16-bit protocol field can carry. Zero is
// never issued.
const Max = 65535

// Following returns the number issued after cur.
func Following(cur int) int {
	if cur < 0 || cur >= Max {
		return 1
	}
	return cur + 1
}

// Next advances and persists the counter of dev inside tx. The caller must
// hold the device row lock.
func Next(ctx context.Context, tx storage.Tx, dev *domain.Device) (int, error) {
	dev.ReqNum = Following(dev.ReqNum)
	if err := tx.Devices().Save(ctx, dev); err != nil {
		return 0, fmt.Errorf("persist req num: %w", err)
	}
	return dev.ReqNum, nil
}
