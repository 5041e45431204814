/*
   Copyright Mycophonic.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

//nolint:gosec // Integer conversions are bounded by the adaptive Rice parameters.
package rice

import (
	"errors"
	"math/bits"

	"github.com/hyphalcore/alac/internal/bitio"
)

// ErrInvalidData is returned when the entropy-coded stream is malformed or
// runs out of bits before the requested number of samples is produced.
var ErrInvalidData = errors.New("rice: invalid entropy-coded data")

const (
	maxUnaryPrefix = 9
	historyShift   = 9 // divides rice_history by 512 when deriving k
)

// Params are the per-block adaptive Golomb-Rice parameters, derived from the
// stream's PB/MB/KB fields and the active partition's prediction-bound factor.
type Params struct {
	MeanBase    uint32 // initial rice_history (mb)
	HistoryMult uint32 // (pb * pb_factor) / 4
	KMax        uint32 // kb, the ceiling on the adaptive Rice parameter k
}

// log2 returns floor(log2(x)), treating x==0 as 1 to avoid an undefined shift.
func log2(x uint32) uint32 {
	return 31 - uint32(bits.LeadingZeros32(x|1))
}

// readUnaryPrefix counts consecutive one-bits up to the cap of 9.
// If the cap is reached the run of ones is itself the escape marker and no
// terminating zero bit is consumed; otherwise the terminating zero is
// consumed along with the ones.
func readUnaryPrefix(c *bitio.Cursor) (q uint32, escaped bool, err error) {
	for q = 0; q < maxUnaryPrefix; q++ {
		bit, rerr := c.ReadBit()
		if rerr != nil {
			return 0, false, ErrInvalidData
		}

		if !bit {
			return q, false, nil
		}
	}

	return maxUnaryPrefix, true, nil
}

// decodeSymbol decodes one Rice-coded value using modulus m and parameter k.
// bps bounds the escape-coded binary value when the unary prefix saturates.
func decodeSymbol(c *bitio.Cursor, m, k uint32, bps uint) (uint32, error) {
	q, escaped, err := readUnaryPrefix(c)
	if err != nil {
		return 0, err
	}

	if escaped {
		v, err := c.ReadU32(bps)
		if err != nil {
			return 0, ErrInvalidData
		}

		return v, nil
	}

	if k == 1 {
		return q, nil
	}

	base, err := c.PeekU32(uint(k - 1))
	if err != nil {
		return 0, ErrInvalidData
	}

	if base == 0 {
		if err := c.Skip(uint(k - 1)); err != nil {
			return 0, ErrInvalidData
		}

		return q * m, nil
	}

	if err := c.Skip(uint(k - 1)); err != nil {
		return 0, ErrInvalidData
	}

	e, err := c.ReadU32(1)
	if err != nil {
		return 0, ErrInvalidData
	}

	r := (base << 1) + e - 1

	return q*m + r, nil
}

// zigzagDecode maps the Rice-decoded unsigned value back to a signed residual.
func zigzagDecode(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

// runParams derives the zero-run Rice parameters (k, m) from the current
// rice_history, used only while history stays below the zero-run threshold.
func runParams(history, kMax uint32) (k, m uint32) {
	lz := uint32(bits.LeadingZeros32(history))
	k = (lz - 24) + ((history + 16) >> 6)

	if k > kMax {
		k = kMax
	}

	wb := (uint32(1) << kMax) - 1
	m = ((uint32(1) << k) - 1) & wb

	return k, m
}

// Decompress entropy-decodes len(out) prediction residuals into out, using
// the adaptive Golomb-Rice scheme with run-length zero coding.
func Decompress(c *bitio.Cursor, out []int32, bps uint, params Params) error {
	history := params.MeanBase
	signModifier := uint32(0)
	n := len(out)

	for i := 0; i < n; i++ {
		k := min(log2((history>>historyShift)+3), params.KMax)
		m := (uint32(1) << k) - 1

		val, err := decodeSymbol(c, m, k, bps)
		if err != nil {
			return err
		}

		val += signModifier
		signModifier = 0

		out[i] = zigzagDecode(val)

		if val > 0xFFFF {
			history = 0xFFFF
		} else {
			history = history + val*params.HistoryMult - ((history * params.HistoryMult) >> historyShift)
		}

		if history < 128 && i+1 < n {
			kRun, mRun := runParams(history, params.KMax)

			run, err := decodeSymbol(c, mRun, kRun, 16)
			if err != nil {
				return err
			}

			if run > 0 {
				if run >= uint32(n-i-1)+1 {
					return ErrInvalidData
				}

				for z := i + 1; z <= i+int(run); z++ {
					out[z] = 0
				}

				i += int(run)
			}

			if run <= 0xFFFF {
				signModifier = 1
			}

			history = 0
		}
	}

	return nil
}
