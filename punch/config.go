// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package punch drives the Connector/Listener state machine: registration,
// port-predicted punch bursts, success detection, and the retry/timeout
// policy around them. It is the core of the module; everything else is
// plumbing around it.
package punch

import "time"

// Config holds the five tunables snapshotted at session start. The zero
// value is not usable directly; use DefaultConfig and override from there.
type Config struct {
	// PortPredictions is the size P of the port-prediction window
	// {anchor, anchor+1, ..., anchor+P-1}.
	PortPredictions int `json:"portPredictions"`
	// MaxPunchAttempts bounds the outer bursts sent per ConnectTo.
	MaxPunchAttempts int `json:"maxPunchAttempts"`
	// RetryDelay is the inter-attempt sleep. Zero means back-to-back
	// bursts with no sleep.
	RetryDelay time.Duration `json:"retryDelay"`
	// MaxResponseWaitTime is the Connector's per-attempt inbound wait
	// budget during the listen phase.
	MaxResponseWaitTime time.Duration `json:"maxResponseWaitTime"`
	// MaxServerResponseAttempts bounds the Connector's outer-loop
	// iterations spent on irrelevant inbound traffic before giving up on
	// ever seeing a ConnectTo.
	MaxServerResponseAttempts int `json:"maxServerResponseAttempts"`
}

// DefaultConfig returns the standard configuration defaults.
func DefaultConfig() Config {
	return Config{
		PortPredictions:           8,
		MaxPunchAttempts:          8,
		RetryDelay:                1000 * time.Millisecond,
		MaxResponseWaitTime:       5000 * time.Millisecond,
		MaxServerResponseAttempts: 20,
	}
}
