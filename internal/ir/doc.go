// Package ir defines the value types shared by every replyplace package.
//
// This package contains types and their identity functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Commands are immutable values; they are copied, never shared by pointer
//   - Colours are always "#RRGGBB" uppercase
//   - Timestamps are UTC with millisecond precision so the textual form sorts
//   - Identity is content-addressed (CommandKey), never object identity
package ir
