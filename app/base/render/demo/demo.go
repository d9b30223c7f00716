package main

import (
	"bytes"
	"fmt"
	"os"

	icatapp "github.com/icatools/icat/app"
	"github.com/icatools/icat/app/base/render"
)

func main() {
	var buf bytes.Buffer
	icatapp.App.Writer = &buf
	icatapp.App.ErrWriter = &buf
	_ = icatapp.App.Run([]string{"-h"})

	fmt.Println("--------")
	render.Render(buf.Bytes(), os.Stdout, render.Mode_ANSIdown)
	fmt.Println("--------")
}
