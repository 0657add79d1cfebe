package cli

var completionScripts = map[string]string{
	"bash": bashCompletionScript,
	"zsh":  zshCompletionScript,
	"fish": fishCompletionScript,
}

const bashCompletionScript = `# bash completion for opencli
_opencli_completion() {
  local cur first sub
  COMPREPLY=()
  cur="${COMP_WORDS[COMP_CWORD]}"

  if [[ ${COMP_CWORD} -eq 1 ]]; then
    COMPREPLY=( $(compgen -W "task mcp config completion --socket --timeout --verbose -v --help -h --version -V" -- "$cur") )
    return 0
  fi

  first="${COMP_WORDS[1]}"
  case "$first" in
    completion)
      COMPREPLY=( $(compgen -W "bash zsh fish" -- "$cur") )
      return 0
      ;;
    config)
      if [[ ${COMP_CWORD} -eq 2 ]]; then
        COMPREPLY=( $(compgen -W "init path show" -- "$cur") )
      elif [[ "${COMP_WORDS[2]}" == "init" ]]; then
        COMPREPLY=( $(compgen -W "--force" -- "$cur") )
      fi
      return 0
      ;;
    task)
      ;;
    *)
      return 0
      ;;
  esac

  if [[ ${COMP_CWORD} -eq 2 ]]; then
    COMPREPLY=( $(compgen -W "submit batch pending cancel" -- "$cur") )
    return 0
  fi

  sub="${COMP_WORDS[2]}"
  case "$sub" in
    submit)
      if [[ ${COMP_CWORD} -eq 3 ]]; then
        COMPREPLY=( $(compgen -W "$(opencli __complete task-types 2>/dev/null)" -- "$cur") )
        return 0
      fi
      compopt -o nospace 2>/dev/null
      COMPREPLY=( $(compgen -W "$(opencli __complete task-flags submit "${COMP_WORDS[3]}" 2>/dev/null)" -- "$cur") )
      ;;
    batch)
      if [[ "$cur" == -* ]]; then
        COMPREPLY=( $(compgen -W "$(opencli __complete task-flags batch - 2>/dev/null)" -- "$cur") )
      else
        COMPREPLY=( $(compgen -f -X '!*.@(yaml|yml|json|jsonc)' -- "$cur") $(compgen -d -- "$cur") )
      fi
      ;;
    pending)
      COMPREPLY=( $(compgen -W "$(opencli __complete task-flags pending - 2>/dev/null)" -- "$cur") )
      ;;
  esac
}
complete -F _opencli_completion opencli
`

const zshCompletionScript = `#compdef opencli
_opencli_completion() {
  local -a entries flags types

  if (( CURRENT == 2 )); then
    entries=(task mcp config completion --socket --timeout --verbose -v --help -h --version -V)
    _describe 'opencli entry' entries
    return
  fi

  case "${words[2]}" in
    completion)
      _values 'shell' bash zsh fish
      return
      ;;
    config)
      if (( CURRENT == 3 )); then
        _values 'config command' init path show
      elif [[ "${words[3]}" == "init" ]]; then
        _values 'flag' --force
      fi
      return
      ;;
    task)
      ;;
    *)
      return
      ;;
  esac

  if (( CURRENT == 3 )); then
    _values 'task command' submit batch pending cancel
    return
  fi

  case "${words[3]}" in
    submit)
      if (( CURRENT == 4 )); then
        types=(${(f)"$(opencli __complete task-types 2>/dev/null)"})
        _describe 'task type' types
        return
      fi
      flags=(${(f)"$(opencli __complete task-flags submit ${words[4]} 2>/dev/null)"})
      compadd -S '' -- $flags
      ;;
    batch)
      flags=(${(f)"$(opencli __complete task-flags batch - 2>/dev/null)"})
      _alternative "flags:flag:(${flags})" 'files:manifest:_files -g "*.(yaml|yml|json|jsonc)"'
      ;;
    pending)
      flags=(${(f)"$(opencli __complete task-flags pending - 2>/dev/null)"})
      _describe 'flag' flags
      ;;
  esac
}
compdef _opencli_completion opencli
`

const fishCompletionScript = `function __opencli_words
    commandline -opc
end

function __opencli_at
    set -l w (__opencli_words)
    test (count $w) -eq $argv[1]; or return 1
    set -l i 2
    for want in $argv[2..-1]
        test "$w[$i]" = "$want"; or return 1
        set i (math $i + 1)
    end
end

function __opencli_task_type
    set -l w (__opencli_words)
    if test (count $w) -ge 4
        echo $w[4]
    end
end

complete -c opencli -f
complete -c opencli -n '__opencli_at 1' -a "task mcp config completion --socket --timeout --verbose -v --help -h --version -V"
complete -c opencli -n '__opencli_at 2 completion' -a "bash zsh fish"
complete -c opencli -n '__opencli_at 2 config' -a "init path show"
complete -c opencli -n '__opencli_at 3 config init' -a "--force"
complete -c opencli -n '__opencli_at 2 task' -a "submit batch pending cancel"
complete -c opencli -n '__opencli_at 3 task submit' -a "(opencli __complete task-types 2>/dev/null)"
complete -c opencli -n 'set -l w (__opencli_words); test (count $w) -ge 4; and test "$w[2]" = task; and test "$w[3]" = submit' -a "(opencli __complete task-flags submit (__opencli_task_type) 2>/dev/null)"
complete -c opencli -n 'set -l w (__opencli_words); test (count $w) -ge 3; and test "$w[2]" = task; and test "$w[3]" = batch' -F -a "(opencli __complete task-flags batch - 2>/dev/null)"
complete -c opencli -n 'set -l w (__opencli_words); test (count $w) -ge 3; and test "$w[2]" = task; and test "$w[3]" = pending' -a "(opencli __complete task-flags pending - 2>/dev/null)"
`
