// Package registry tracks graph metadata: which graphs exist, their type and
// configuration, whether they are active, and a weak back-reference to each
// graph's most recent checkpoint.
package registry
