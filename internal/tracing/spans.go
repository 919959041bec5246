package tracing

// Span names.
const (
	SpanInstallFetch     = "install.fetch"
	SpanInstallUnit      = "install.unit"
	SpanUpdaterCycle     = "updater.cycle"
	SpanExtensionCollect = "extension.collect"
)

// Span attribute keys.
const (
	AttrBatchID      = "batch.id"
	AttrFunctionName = "function.name"
	AttrFunctionARN  = "function.arn"
	AttrRegion       = "aws.region"
	AttrPageCount    = "list.pages"
	AttrFunctions    = "list.functions"
	AttrMetricCount  = "collect.metrics"
)
