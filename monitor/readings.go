/*
 * This file is part of the gauge-mate distribution (https://github.com/mlipscombe/gauge-mate).
 * Copyright (c) 2021 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package monitor

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/mlipscombe/gauge-mate/centertwo"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ReadingLog appends one CSV row per pressure sample:
// timestamp,status1,value1,status2,value2,status3,value3
type ReadingLog struct {
	mu  sync.Mutex
	out io.WriteCloser
	w   *csv.Writer
}

// NewReadingLog opens a size-rotated reading log at path.
func NewReadingLog(path string) *ReadingLog {
	return newReadingLog(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     90, // days
		Compress:   true,
		LocalTime:  true,
	})
}

func newReadingLog(out io.WriteCloser) *ReadingLog {
	return &ReadingLog{out: out, w: csv.NewWriter(out)}
}

// Record writes a sample and flushes it.
func (l *ReadingLog) Record(at time.Time, readings [3]centertwo.Reading) error {
	row := make([]string, 0, 1+2*len(readings))
	row = append(row, at.Format(time.RFC3339))
	for _, r := range readings {
		row = append(row, strconv.Itoa(int(r.Status)), strconv.FormatFloat(r.Value, 'E', -1, 64))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *ReadingLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.out.Close()
}
