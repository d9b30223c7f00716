package icatapp

import (
	appbase "github.com/icatools/icat/app/base"
	_ "github.com/icatools/icat/app/check"
	_ "github.com/icatools/icat/app/convert"
	_ "github.com/icatools/icat/app/dump"
	_ "github.com/icatools/icat/app/info"
	_ "github.com/icatools/icat/app/mirror"
	_ "github.com/icatools/icat/app/quickstart"
	_ "github.com/icatools/icat/app/restore"
	_ "github.com/icatools/icat/app/summary"
)

var App = appbase.App
