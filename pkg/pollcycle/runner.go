// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pollcycle

import (
	"context"
	"time"
)

// Run drives Tick from a ticker and delivers events on out until ctx ends.
// On shutdown the pending cycle is cancelled without emitting anything.
// A transport error stops the loop and is returned.
func (m *Machine) Run(ctx context.Context, tick time.Duration, out chan<- Event) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Cancel()
			return ctx.Err()
		case now := <-ticker.C:
			events, err := m.Tick(now)
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					m.Cancel()
					return ctx.Err()
				}
			}
			if err != nil {
				m.Cancel()
				return err
			}
		}
	}
}
