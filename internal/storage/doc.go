/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage keeps the per-workspace run journal and writes stage output safely.
// The journal lives at <workspace>/.artemisport/journal.sqlite. It records every
// stage run and the outcome of each processed file, including content hashes
// used to skip work that is already done. It is disposable: a corrupt journal is
// backed up and recreated.
package storage
