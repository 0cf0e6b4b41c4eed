package main

import (
	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/actions/bracken"
	"github.com/metalab-io/moshpit/internal/actions/busco"
	"github.com/metalab-io/moshpit/internal/actions/derep"
	"github.com/metalab-io/moshpit/internal/actions/eggnog"
	"github.com/metalab-io/moshpit/internal/actions/filter"
	"github.com/metalab-io/moshpit/internal/actions/kaiju"
	"github.com/metalab-io/moshpit/internal/actions/kraken2"
	"github.com/metalab-io/moshpit/internal/actions/metabat2"
	"github.com/metalab-io/moshpit/internal/actions/prodigal"
	"github.com/metalab-io/moshpit/internal/actions/refdb"
)

// registerActions wires every built-in action into the registry.
func registerActions() {
	for _, a := range []action.Action{
		kraken2.NewClassify(),
		kraken2.NewFeatures(),
		kraken2.NewBuildDB(),
		bracken.NewEstimate(),
		prodigal.NewPredict(),
		metabat2.NewBin(),
		eggnog.NewSearch(),
		eggnog.NewAnnotate(),
		kaiju.NewClassify(),
		busco.NewEvaluate(),
		derep.NewDereplicate(),
		filter.NewFilter(),
		refdb.NewFetch(),
	} {
		if err := action.Register(a); err != nil {
			panic(err)
		}
	}
}
