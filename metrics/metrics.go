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

// Package metrics provides a small SNMP-style counter table for a punch
// session, scoped per-session rather than as one process-wide global,
// since a punch session owns no shared state to count against.
package metrics

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters tallies the punch-relevant events of one session. The zero value
// is ready to use, and a nil *Counters is safe to call every method on (so
// callers that don't care about metrics can simply not construct one).
type Counters struct {
	BurstsSent       uint64
	PunchesSent      uint64
	SuccessesSeen    uint64
	TimeoutsExpired  uint64
	DatagramsIgnored uint64
}

func (c *Counters) IncBurst() {
	if c != nil {
		atomic.AddUint64(&c.BurstsSent, 1)
	}
}

func (c *Counters) IncPunchSent() {
	if c != nil {
		atomic.AddUint64(&c.PunchesSent, 1)
	}
}

func (c *Counters) IncSuccess() {
	if c != nil {
		atomic.AddUint64(&c.SuccessesSeen, 1)
	}
}

func (c *Counters) IncTimeout() {
	if c != nil {
		atomic.AddUint64(&c.TimeoutsExpired, 1)
	}
}

func (c *Counters) IncIgnored() {
	if c != nil {
		atomic.AddUint64(&c.DatagramsIgnored, 1)
	}
}

// Header names the CSV columns, in the same order as ToSlice.
func (c *Counters) Header() []string {
	return []string{"BurstsSent", "PunchesSent", "SuccessesSeen", "TimeoutsExpired", "DatagramsIgnored"}
}

// ToSlice snapshots the counters as strings, suitable for one CSV row.
func (c *Counters) ToSlice() []string {
	if c == nil {
		c = &Counters{}
	}
	return []string{
		fmt.Sprint(atomic.LoadUint64(&c.BurstsSent)),
		fmt.Sprint(atomic.LoadUint64(&c.PunchesSent)),
		fmt.Sprint(atomic.LoadUint64(&c.SuccessesSeen)),
		fmt.Sprint(atomic.LoadUint64(&c.TimeoutsExpired)),
		fmt.Sprint(atomic.LoadUint64(&c.DatagramsIgnored)),
	}
}

// Logger snapshots c to a timestamped CSV file on a ticker: the path is
// split and time.Now().Format()'d against its base name, so a path like
// "./metrics-20060102.csv" rolls to a new file every day. Returns
// immediately if path or period is empty/zero.
func Logger(path string, period time.Duration, c *Counters) {
	if path == "" || period == 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println("metrics:", err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, c.Header()...)); err != nil {
				log.Println("metrics:", err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, c.ToSlice()...)); err != nil {
			log.Println("metrics:", err)
		}
		w.Flush()
		f.Close()
	}
}
