package version

// Feature is a wire-visible capability introduced at Since.
type Feature struct {
	Name  string
	Since Version
}

// Wire features. Encode and decode sites reference these and never compare
// raw version ids.
var (
	CauseChain     = Feature{Name: "failure.cause_chain", Since: FailureCauseChain}
	Metadata       = Feature{Name: "failure.metadata", Since: FailureMetadata}
	Compression    = Feature{Name: "transport.compression", Since: TransportCompression}
	MultipleModels = Feature{Name: "inference.get.multiple_models", Since: MLInferenceGetMultipleModels}
)

var features = []Feature{CauseChain, Metadata, Compression, MultipleModels}

// Features returns every declared feature in declaration order.
func Features() []Feature {
	out := make([]Feature, len(features))
	copy(out, features)
	return out
}
