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

//go:build !unix

package diskstore

import "os"

// On non-unix platforms there is no golang.org/x/sys/unix.Flock; a
// single diskstore.Store is only ever used from one goroutine/process
// in this package's tests, so the lock is a no-op rather than a
// correctness requirement.
func lockExclusive(f *os.File) error { return nil }
func lockShared(f *os.File) error    { return nil }
func unlock(f *os.File) error        { return nil }
