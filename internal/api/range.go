// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// byteRange is an inclusive span within a file of known size.
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) length() int64 { return r.End - r.Start + 1 }

// errUnsatisfiable marks a syntactically valid Range header whose bounds
// fall outside the file. The handler answers 416 with a size advertisement.
var errUnsatisfiable = errors.New("range not satisfiable")

// parseRange interprets a single-span Range header against a file of
// totalSize bytes. An absent header selects the whole file. A malformed
// header is ignored per RFC 9110 (whole file, 200); valid-but-impossible
// bounds return errUnsatisfiable. Multi-range requests are not supported
// and are served as the whole file.
func parseRange(header string, totalSize int64) (byteRange, error) {
	whole := byteRange{Start: 0, End: totalSize - 1}
	if header == "" {
		return whole, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return whole, nil
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return whole, nil
	}

	// Suffix form "bytes=-N": the final N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return whole, nil
		}
		if n > totalSize {
			n = totalSize
		}
		return byteRange{Start: totalSize - n, End: totalSize - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return whole, nil
	}

	end := totalSize - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return whole, nil
		}
		if end > totalSize-1 {
			end = totalSize - 1
		}
	}

	if start >= totalSize || start > end {
		return byteRange{}, errUnsatisfiable
	}
	return byteRange{Start: start, End: end}, nil
}

// writeUnsatisfiable answers 416 advertising the actual size, no body.
func writeUnsatisfiable(w http.ResponseWriter, totalSize int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

func contentRange(r byteRange, totalSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, totalSize)
}
