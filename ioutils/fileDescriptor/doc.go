/*
 * MIT License
 *
 * Copyright (c) 2019 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

/*
Package fileDescriptor provides utilities for querying and raising the per-process
open file descriptor limit (RLIMIT_NOFILE) on POSIX-like systems.

# Design Philosophy

1. Safety First: Never decreases existing limits, always respects system constraints
2. Minimal Interface: One function handles both operations (query and modify)
3. Zero Runtime Overhead: No state maintained, no memory allocations

# Architecture

	┌─────────────────────────────────────────┐
	│   SystemFileDescriptor(newValue int)    │
	│         Public API (fileDescriptor.go)  │
	└──────────────────┬──────────────────────┘
	                   │
	         ┌─────────▼──────────┐
	         │ syscall.Getrlimit  │
	         │ syscall.Setrlimit  │
	         │   RLIMIT_NOFILE    │
	         └────────────────────┘

# Operation Flow

The SystemFileDescriptor function follows this decision tree:

	1. Query current soft/hard limits via syscall.Getrlimit(RLIMIT_NOFILE)
	2. If newValue <= 0 or newValue <= current soft limit
	   └─ Return current limits (no modification)
	3. If newValue > current soft limit
	   ├─ Attempt syscall.Setrlimit() raising the soft limit toward newValue
	   │   ├─ Success if newValue <= hard limit (no privileges needed)
	   │   └─ Requires root if newValue > hard limit
	4. Return the resulting limits or an error

# Platform Behavior

  - Implementation: syscall.Rlimit with the RLIMIT_NOFILE resource
  - Soft Limit: Current limit, can be increased up to the hard limit without privileges
  - Hard Limit: Maximum limit, requires root privileges to increase
  - Thread Safety: Kernel-level synchronization, naturally thread-safe
  - Decrease Allowed: No, the function never decreases limits

# Limitations and Constraints

1. Cannot Decrease Limits: For safety, the function never decreases existing limits
2. Privilege Requirements: Increasing beyond the hard limit may require elevated privileges
3. Process-Wide: Changes affect the entire process, not individual threads
4. No Granular Control: Cannot set soft and hard limits independently
5. No Usage Tracking: Cannot query current file descriptor usage, only limits

# Typical Use Case

An acceptor that refuses new connections under descriptor exhaustion (EMFILE/ENFILE)
uses this package at startup to raise the process limit toward the expected number of
concurrent connections, reserving headroom for the idle-fd trick it falls back on when
the limit is still hit at runtime.

# Best Practices

1. Initialize Early: Set limits during application startup, before opening connections
2. Check Before Requiring: Verify limits meet requirements before proceeding
3. Handle Gracefully: Accept that limit increases may fail due to permissions
4. Reserve Margin: Don't use all available descriptors, leave room for logs and overhead

# Performance Characteristics

  - Query Operation: a single syscall
  - Increase Operation: a syscall plus validation
  - Subsequent Calls: the same Getrlimit syscall each time (a raised limit persists process-wide)
  - Memory Usage: no state maintained, no allocations per call

# Compatibility

Minimum Go version: 1.18 (uses math.MaxInt and //go:build syntax from Go 1.17+)
Platforms: POSIX-like systems exposing getrlimit/setrlimit (linux, darwin, freebsd, all common architectures)
*/
package fileDescriptor
