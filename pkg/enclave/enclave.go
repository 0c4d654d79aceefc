// Copyright 2023 The gVisor Authors.
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

// Package enclave models the trusted side of an SGX enclave at runtime:
// the loader-populated global descriptor, the enclave's linear address
// range (as a bounds-checked arena), and the layout table that resolves
// the image's named regions.
//
// The global descriptor and the layout table are written exactly once,
// before any trusted code runs, and are read-only for the life of the
// enclave; violations of that contract by the untrusted loader are not
// recoverable and abort.
package enclave
