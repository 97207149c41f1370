// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iupac compiles degenerate IUPAC nucleotide patterns into
// deterministic character-class regular expressions, and exposes the
// expansion of each IUPAC letter into its concrete base set.
package iupac

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// expansions maps each IUPAC nucleotide letter to the read letters it
// accepts: the concrete bases it represents and, for B, D, H and V, also
// the two-base codes it covers. T is aliased to U throughout, per spec §3.
var expansions = map[byte]string{
	'A': "A",
	'C': "C",
	'G': "G",
	'T': "TU",
	'U': "TU",
	'W': "ATU",
	'S': "CG",
	'M': "AC",
	'K': "GTU",
	'R': "AG",
	'Y': "CTU",
	'B': "CGTSKYU",
	'D': "AGTWKRU",
	'H': "ACTWMYU",
	'V': "ACGSMR",
	'N': "ACGTU",
}

// regexClasses mirrors expansions but is used verbatim as bracket
// expressions; N matches any base via ".", per spec §4.1.
var regexClasses = map[byte]string{
	'A': "A",
	'C': "C",
	'G': "G",
	'T': "[TU]",
	'U': "[TU]",
	'W': "[ATU]",
	'S': "[CG]",
	'M': "[AC]",
	'K': "[GTU]",
	'R': "[AG]",
	'Y': "[CTU]",
	'B': "[CGTSKYU]",
	'D': "[AGTWKRU]",
	'H': "[ACTWMYU]",
	'V': "[ACGSMR]",
	'N': ".",
}

// Expand returns the set of concrete bases encoded by an IUPAC letter,
// and whether the letter is recognised.
func Expand(letter byte) (bases string, ok bool) {
	letter = upper(letter)
	b, ok := expansions[letter]
	return b, ok
}

// CompileRegex translates an IUPAC pattern into a deterministic
// character-class regex matching exactly its concretisations. Unknown
// letters fall back to "." and are logged. An empty pattern returns "".
func CompileRegex(pattern string) string {
	if pattern == "" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := upper(pattern[i])
		if cls, ok := regexClasses[c]; ok {
			b.WriteString(cls)
			continue
		}
		logrus.WithField("letter", string(pattern[i])).Warn("iupac: unknown letter, falling back to wildcard")
		b.WriteString(".")
	}
	return b.String()
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
