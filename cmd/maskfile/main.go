// Command maskfile masks or unmasks a file with the page xor mask.
//
// The transform is its own inverse, so the same invocation prepares pages
// for storage and restores them:
//
//	maskfile -in page.jpg -out page.jpg.masked
//	maskfile -in - -out - < page.jpg.masked > page.jpg
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/comicshelf/pagemask/mask"
	log "github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	fs := flag.NewFlagSet("maskfile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "input file, - for stdin")
	out := fs.String("out", "-", "output file, - for stdout")
	maskValue := fs.Int("mask", int(mask.Default), "xor byte, 1..255")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	x, err := mask.Parse(*maskValue)
	if err != nil {
		log.Error(err)
		return 2
	}

	n, err := maskFile(*in, *out, x, stdin, stdout)
	if err != nil {
		log.Error(err)
		return 1
	}
	log.Debugf("%v bytes written to %v", n, *out)
	return 0
}

func maskFile(in, out string, x mask.XOR, stdin io.Reader, stdout io.Writer) (int64, error) {
	r := stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	if out == "-" {
		return copyMasked(stdout, r, x, in)
	}

	// in and out may be the same file, so the result goes to a temporary
	// file next to out and replaces it once complete
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := copyMasked(tmp, r, x, in)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if info, err := os.Stat(out); err == nil {
		if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
			return n, err
		}
	} else if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), out)
}

func copyMasked(w io.Writer, r io.Reader, x mask.XOR, in string) (int64, error) {
	bw := bufio.NewWriter(w)
	n, err := io.Copy(bw, x.NewReader(r))
	if err != nil {
		return n, fmt.Errorf("mask %v: %w", in, err)
	}
	return n, bw.Flush()
}
