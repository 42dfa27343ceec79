// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package logging centralizes the per-component log sinks used by
// commander, operator, and drone, the same role tenant.Manager's
// logger field and WithLogger option play for tenant subprocess
// diagnostics: one *log.Logger per component, writing prefixed lines
// to a shared writer, never read back by the program itself (spec.md
// §6: "an observability interface only").
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Sink is the writer every component logger writes to. It defaults
// to os.Stdout, matching run_worker.go's log.Default().SetOutput
// pattern, and can be redirected for tests.
var Sink io.Writer = os.Stdout

// For returns a *log.Logger prefixed with component and, if given,
// an id distinguishing multiple instances of it (e.g. a drone id).
func For(component string, id ...int) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	if len(id) > 0 {
		prefix = fmt.Sprintf("[%s %d] ", component, id[0])
	}
	return log.New(Sink, prefix, 0)
}
