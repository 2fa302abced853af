package util

import (
	"errors"
	"strings"
)

// ToPointer returns a pointer to a copy of v
func ToPointer[T any](v T) *T {
	return &v
}

// FromPointer returns the value s points to, or the zero value if s is nil
func FromPointer[T any](s *T) T {
	if s == nil {
		return *new(T)
	}
	return *s
}

func Map[T, U any](xs []T, f func(T) (U, error)) ([]U, error) {
	result := make([]U, len(xs))
	for i, x := range xs {
		it, err := f(x)
		if err != nil {
			return nil, err
		}
		result[i] = it
	}
	return result, nil
}

// Dedupe removes duplicate elements from a slice, preserving the order of the remaining elements.
func Dedupe[T comparable](src []T, filterInPlace bool) []T {
	var result []T
	if filterInPlace {
		result = src[:0]
	} else {
		result = make([]T, 0, len(src))
	}
	seen := make(map[T]bool)
	for _, x := range src {
		if !seen[x] {
			result = append(result, x)
			seen[x] = true
		}
	}
	return result
}

func Contains[T comparable](s []T, str T) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}

	return false
}

// ErrorAs reports whether err, or any error it wraps, is of type T
func ErrorAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// GetURIPath takes an http(s) or ipfs uri and returns just the path
func GetURIPath(initial string, withoutQuery bool) string {
	path := strings.TrimSpace(initial)
	switch {
	case strings.HasPrefix(path, "http"):
		path = strings.TrimPrefix(path, "https://")
		path = strings.TrimPrefix(path, "http://")
		if indexOfPath := strings.Index(path, "/"); indexOfPath > 0 {
			path = path[indexOfPath:]
		}
	case strings.HasPrefix(path, "ipfs://"):
		path = strings.TrimPrefix(path, "ipfs://")
	}
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimPrefix(path, "ipfs/")
	if withoutQuery {
		path = strings.Split(path, "?")[0]
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func TruncateWithEllipsis(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length] + "..."
}
