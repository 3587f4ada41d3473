// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bwe

import "fmt"

// ------------------------------------------------

type CongestionVerdict int32

const (
	CongestionVerdictKeep CongestionVerdict = iota
	CongestionVerdictIncrease
	CongestionVerdictDecrease
)

func (c CongestionVerdict) String() string {
	switch c {
	case CongestionVerdictKeep:
		return "KEEP"
	case CongestionVerdictIncrease:
		return "INCREASE"
	case CongestionVerdictDecrease:
		return "DECREASE"
	default:
		return fmt.Sprintf("%d", int(c))
	}
}

func (c CongestionVerdict) IsValid() bool {
	switch c {
	case CongestionVerdictKeep, CongestionVerdictIncrease, CongestionVerdictDecrease:
		return true
	default:
		return false
	}
}
