package config

// ModelRef identifies a pretrained model by hub id or local directory.
type ModelRef struct {
	NameOrPath string `koanf:"name_or_path"`
	Subfolder  string `koanf:"subfolder"`
	Revision   string `koanf:"revision"`
}

type TokenizerRef struct {
	NameOrPath string `koanf:"name_or_path"`
	Subfolder  string `koanf:"subfolder"`
	Revision   string `koanf:"revision"`
}

// DatasetSpec describes one split of a dataset. Shuffling of streamed datasets
// is bounded by BufferSize and therefore only approximate.
type DatasetSpec struct {
	NameOrPath    string            `koanf:"name_or_path"`
	Split         string            `koanf:"split"`
	ConfigName    string            `koanf:"config_name"`
	Revision      string            `koanf:"revision"`
	RenameColumns map[string]string `koanf:"rename_columns"`
	NumProc       *int              `koanf:"num_proc,omitempty"`
	Streaming     bool              `koanf:"streaming"`
	Shuffle       bool              `koanf:"shuffle"`
	BufferSize    int               `koanf:"buffer_size"`
}

type RemoteStorage struct {
	OutputDir string         `koanf:"output_dir"`
	Options   map[string]any `koanf:"options"`
}

type EarlyStopping struct {
	Patience  int     `koanf:"patience"`
	Threshold float64 `koanf:"threshold"`
}

type TrainerSpec struct {
	Framework            string         `koanf:"framework"`
	OutputDir            string         `koanf:"output_dir"`
	RemoteStorage        *RemoteStorage `koanf:"remote_storage,omitempty"`
	EarlyStopping        *EarlyStopping `koanf:"early_stopping,omitempty"`
	ResumeFromCheckpoint string         `koanf:"resume_from_checkpoint"`
	Args                 map[string]any `koanf:"args"`
}

type ModelCard struct {
	Update        bool     `koanf:"update"`
	Language      string   `koanf:"language"`
	License       string   `koanf:"license"`
	ModelName     string   `koanf:"model_name"`
	FinetunedFrom string   `koanf:"finetuned_from"`
	Tasks         []string `koanf:"tasks"`
	Dataset       []string `koanf:"dataset"`
}

type Metric struct {
	Name string         `koanf:"name"`
	Type string         `koanf:"type"`
	Args map[string]any `koanf:"args"`
}

// Processing controls how examples are turned into model inputs. A NumProc
// of -1 means one worker per logical CPU.
type Processing struct {
	BatchSize *int     `koanf:"batch_size,omitempty"`
	NumProc   *int     `koanf:"num_proc,omitempty"`
	Feature   string   `koanf:"feature"`
	Target    []string `koanf:"target"`
}

type TrainingConfig struct {
	Model      ModelRef     `koanf:"model"`
	Tokenizer  TokenizerRef `koanf:"tokenizer"`
	TrainData  DatasetSpec  `koanf:"train_data"`
	EvalData   *DatasetSpec `koanf:"eval_data,omitempty"`
	Processing Processing   `koanf:"processing"`
	Trainer    TrainerSpec  `koanf:"trainer"`
	ModelCard  ModelCard    `koanf:"model_card"`
	Seed       *int64       `koanf:"seed,omitempty"`
	HubToken   string       `koanf:"hub_token"`
	Metrics    []Metric     `koanf:"metrics"`
}

func defaultDatasetSpec() DatasetSpec {
	return DatasetSpec{
		Revision:      "main",
		RenameColumns: map[string]string{},
		Shuffle:       true,
		BufferSize:    1000,
	}
}

func defaultEarlyStopping() EarlyStopping {
	return EarlyStopping{Patience: 3, Threshold: 0.001}
}

// defaults returns the schema defaults. Optional sections are only populated
// when present reports that the user supplied them, so that their own
// defaults end up underneath the user's values.
func defaults(present func(key string) bool) TrainingConfig {
	cfg := TrainingConfig{
		Model:     ModelRef{Revision: "main"},
		Tokenizer: TokenizerRef{Revision: "main"},
		TrainData: defaultDatasetSpec(),
		Processing: Processing{
			Feature: "text",
			Target:  []string{"label"},
		},
		Trainer: TrainerSpec{
			Framework: "linear",
			Args:      map[string]any{},
		},
	}

	if present("eval_data") {
		eval := defaultDatasetSpec()
		cfg.EvalData = &eval
	}
	if present("trainer.remote_storage") {
		cfg.Trainer.RemoteStorage = &RemoteStorage{Options: map[string]any{}}
	}
	if present("trainer.early_stopping") {
		es := defaultEarlyStopping()
		cfg.Trainer.EarlyStopping = &es
	}

	return cfg
}
