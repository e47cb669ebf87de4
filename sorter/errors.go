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

package sorter

import "errors"

// ErrMisuse is returned when the API is called in the wrong order,
// e.g. Next before Rewind, or Insert after Rewind. It is always a
// programming error in the caller.
var ErrMisuse = errors.New("sorter: misuse")

// ErrPoisoned is returned by every call on a Sorter that has already
// failed; only Close remains valid once a Sorter is poisoned.
var ErrPoisoned = errors.New("sorter: poisoned by a previous error")
