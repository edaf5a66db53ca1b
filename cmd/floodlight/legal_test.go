// Copyright (C) 2022 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"bytes"
	"os"
	"regexp"
	"strings"
	"testing"
)

var copyrightYear = regexp.MustCompile(`Copyright \([cC]\) (\d{4}) Markus L\. Noga`)

// The license header of the sources and the legal notice name the same year
func TestCopyrightYearsAgree(t *testing.T) {
	f, err := os.Open("main.go")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	first, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	header := copyrightYear.FindStringSubmatch(first)
	if header == nil {
		t.Fatalf("no copyright in header line %q", first)
	}

	var buf bytes.Buffer
	cmdLegal(&buf)
	notice := copyrightYear.FindStringSubmatch(buf.String())
	if notice == nil {
		t.Fatalf("no copyright in legal notice")
	}
	if header[1] != notice[1] {
		t.Errorf("header year %s, legal notice year %s", header[1], notice[1])
	}
	if !strings.Contains(buf.String(), "gpl-3.0") {
		t.Errorf("legal notice does not mention the license")
	}
}
