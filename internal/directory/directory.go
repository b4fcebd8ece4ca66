// Package directory maps principals to the pod that hosts them.
//
// Assignments come from configuration. Principals without an assignment
// are hosted on the local pod. UIDs are NFC-normalized before lookup, so
// composed and decomposed spellings of the same UID resolve alike.
package directory

import (
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Directory is a static principal directory.
//
// Thread-safety: a Directory is immutable after New and safe for
// concurrent use.
type Directory struct {
	local string
	pods  map[string]string // normalized uid -> pod id
}

// New returns a directory for the pod localPod. assignments maps
// principal UIDs to pod ids.
func New(localPod string, assignments map[string]string) *Directory {
	d := &Directory{local: localPod, pods: make(map[string]string, len(assignments))}
	for uid, pod := range assignments {
		d.pods[Normalize(uid)] = pod
	}
	return d
}

// Normalize returns the canonical form of a principal UID.
func Normalize(uid string) string {
	return norm.NFC.String(uid)
}

// LocalPod returns the id of this pod.
func (d *Directory) LocalPod() string { return d.local }

// PodFor returns the pod hosting uid.
func (d *Directory) PodFor(uid string) string {
	if pod, ok := d.pods[Normalize(uid)]; ok {
		return pod
	}
	return d.local
}

// Local reports whether uid is hosted on this pod.
func (d *Directory) Local(uid string) bool {
	return d.PodFor(uid) == d.local
}

// Pods lists every pod named by the directory, sorted.
func (d *Directory) Pods() []string {
	seen := map[string]bool{d.local: true}
	for _, pod := range d.pods {
		seen[pod] = true
	}
	out := make([]string, 0, len(seen))
	for pod := range seen {
		out = append(out, pod)
	}
	sort.Strings(out)
	return out
}
