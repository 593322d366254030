// Copyright 2024 The Hybridmap Authors
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

//go:build invariants

package hybridmap

// invariants enables full structural validation at the mutation points that
// call checkInvariants: Set, hash-tier inserts and removals, Clear and
// Reserve. Array-tier Remove, RemovePtr, array-tier SetIfNew and Swap are
// not checked. Build with -tags invariants to turn it on.
const invariants = true
