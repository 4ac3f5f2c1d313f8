// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the mediator
// client (connect backoff) and the session (media fetch deadlines).
//
// Production code holds a Clock and never calls time.After or
// time.AfterFunc directly. Real returns the standard library behavior;
// Fake returns a clock that only moves when the test calls Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.Initialize(ctx, url) // registers a backoff timer
//	c.WaitForTimers(1)
//	c.Advance(time.Second)
package clock
