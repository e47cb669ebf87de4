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

package stat

import "errors"

// ErrCorrupt is returned by the stat1/stat4 loader when a row's
// on-disk bytes cannot be parsed at all. Load paths recover from it
// locally by leaving the index on its default estimates, so callers
// generally log this and move on rather than propagate it.
var ErrCorrupt = errors.New("stat: corrupt statistics row")
