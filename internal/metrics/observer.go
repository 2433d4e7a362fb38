package metrics

type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
}

type LoaderObserver interface {
	ObserveLoad(path string, seconds float64, ok bool)
	RecordFeatureLoad(feature string, loaded, failed int)
}
