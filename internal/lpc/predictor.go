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

//nolint:gosec // Integer conversions are bounded by the predictor's fixed-width fields.
package lpc

import "math"

// MaxOrder is the largest predictor order representable in the 5-bit
// lpc_order field.
const MaxOrder = 31

func signOf(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func signExtend(v int32, bps uint) int32 {
	shift := 32 - bps

	return (v << shift) >> shift
}

func addSaturating(v int16, delta int32) int16 {
	r := int32(v) + delta

	switch {
	case r > math.MaxInt16:
		return math.MaxInt16
	case r < math.MinInt16:
		return math.MinInt16
	default:
		return int16(r)
	}
}

// Differential undoes order-31 (first-order differential) coding in place
// across the whole residual buffer, used when a channel's lpc_mode selects
// the delta-coded fallback.
func Differential(buf []int32, bps uint) {
	for i := 1; i < len(buf); i++ {
		buf[i] = signExtend(buf[i]+buf[i-1], bps)
	}
}

// Reconstruct reverses fixed-order adaptive linear prediction, turning the
// entropy-decoded residuals in buf into reconstructed sample values in
// place. coefs is mutated as the predictor adapts.
//
// order must equal len(coefs). quant must be >= 1.
func Reconstruct(buf []int32, coefs []int16, quant uint32, bps uint) {
	order := len(coefs)
	n := len(buf)

	warmup := order + 1
	if warmup > n {
		warmup = n
	}

	for i := 1; i < warmup; i++ {
		buf[i] = signExtend(buf[i]+buf[i-1], bps)
	}

	roundBias := int32(1) << (quant - 1)

	for i := order + 1; i < n; i++ {
		mean := buf[i-order-1]

		var predicted int32
		for j := range order {
			predicted += (buf[i-order+j] - mean) * int32(coefs[j])
		}

		predicted = (predicted + roundBias) >> quant

		err := buf[i]
		buf[i] = signExtend(predicted+mean+err, bps)

		if err == 0 {
			continue
		}

		s := signOf(err)
		remaining := s * err

		for j := range order {
			d := buf[i-order+j] - mean
			sign := signOf(d) * s

			coefs[j] = addSaturating(coefs[j], sign)

			remaining -= s * ((d * sign) >> quant) * int32(j+1)
			if remaining <= 0 {
				break
			}
		}
	}
}
